package solite

type flag8 interface{ ~uint8 }

func setFlag[T flag8](b, flag T) T   { return b | flag }
func clearFlag[T flag8](b, flag T) T { return b &^ flag }
func hasFlag[T flag8](b, flag T) bool { return b&flag != 0 }
