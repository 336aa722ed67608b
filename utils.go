package cerise

// many of our channels don't *need* any buffering at all, but go likely behaves more efficiently
// if the goroutine scheduler isn't forced to context-switch all the time by bufferless channels,
// so we define a bufferSize for that purpose
const efficientBufferSize = 32

// helper for launching goroutines with the appropriate panic handler
func withRecover(fn func()) {
	defer func() {
		if PanicHandler != nil {
			if err := recover(); err != nil {
				PanicHandler(err)
			}
		}
	}()

	fn()
}

// Encoder is a simple interface for any type that can be encoded as an array of
// bytes in order to be sent as a command argument to the server.
type Encoder interface {
	Encode() ([]byte, error)
}

// make strings and byte slices encodable for convenience so they can be used
// as command arguments

// StringEncoder implements the Encoder interface for Go strings so that you can do things like
//
//	client.Do(cerise.NewCommand("SET", cerise.StringEncoder("key"), cerise.StringEncoder("value")))
type StringEncoder string

func (s StringEncoder) Encode() ([]byte, error) {
	return []byte(s), nil
}

// ByteEncoder implements the Encoder interface for Go byte slices so that you can do things like
//
//	client.Do(cerise.NewCommand("SET", cerise.StringEncoder("key"), cerise.ByteEncoder(raw)))
type ByteEncoder []byte

func (b ByteEncoder) Encode() ([]byte, error) {
	return b, nil
}
