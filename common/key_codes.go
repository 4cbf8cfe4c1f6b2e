package common

// Key codes delivered to the engine's key callbacks. They are GLFW key codes, which use the ASCII
// value for printable keys.
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Key
const (
	KeySpace = 32 // Spacebar (ASCII)
	KeyP     = 80 // P key (ASCII)
	KeyR     = 82 // R key (ASCII)
	KeyEsc   = 256

	Key0 = 48
	Key1 = 49
	Key2 = 50
	Key3 = 51
	Key4 = 52
	Key5 = 53
	Key6 = 54
	Key7 = 55
	Key8 = 56
	Key9 = 57
)

// DigitKey returns the digit of a number-row key code, or -1 for any other key.
func DigitKey(keyCode uint32) int {
	if keyCode < Key0 || keyCode > Key9 {
		return -1
	}
	return int(keyCode - Key0)
}
