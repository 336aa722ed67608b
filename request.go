package cerise

import (
	"strconv"
)

// Command is one outbound request: a command name plus its arguments. On the
// wire it is encoded as an array of bulk strings (`*N` then `$len`-prefixed
// name and arguments), the only frame shape servers accept from clients.
type Command struct {
	Name string
	Args []Encoder

	// These are filled in by the async client as the command is processed
	flags   flagSet
	retries int
}

// NewCommand builds a Command from a name and string arguments. Use the Args
// field directly with ByteEncoder for binary-safe argument values.
func NewCommand(name string, args ...string) *Command {
	cmd := &Command{Name: name, Args: make([]Encoder, 0, len(args))}
	for _, arg := range args {
		cmd.Args = append(cmd.Args, StringEncoder(arg))
	}
	return cmd
}

// encode renders the command as a wire frame. All arguments are encoded
// before any frame bytes are written so an Encoder error leaves nothing
// half-built.
func (c *Command) encode() ([]byte, error) {
	args := make([][]byte, 0, len(c.Args)+1)
	args = append(args, []byte(c.Name))
	for _, arg := range c.Args {
		val, err := arg.Encode()
		if err != nil {
			return nil, err
		}
		args = append(args, val)
	}

	size := 0
	for _, arg := range args {
		// $ + digits + CRLF + payload + CRLF
		size += 1 + lenDigits(len(arg)) + 2 + len(arg) + 2
	}
	buf := make([]byte, 0, 1+lenDigits(len(args))+2+size)

	buf = append(buf, arrayMarker)
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')
	for _, arg := range args {
		buf = append(buf, bulkStringMarker)
		buf = strconv.AppendInt(buf, int64(len(arg)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, arg...)
		buf = append(buf, '\r', '\n')
	}
	return buf, nil
}

func lenDigits(n int) int {
	digits := 1
	for n >= 10 {
		n /= 10
		digits++
	}
	return digits
}
