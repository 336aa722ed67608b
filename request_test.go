package cerise

import (
	"bytes"
	"errors"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestCommandEncode(t *testing.T) {
	tests := []struct {
		name string
		cmd  *Command
		want string
	}{
		{
			name: "bare command",
			cmd:  NewCommand("PING"),
			want: "*1\r\n$4\r\nPING\r\n",
		},
		{
			name: "command with arguments",
			cmd:  NewCommand("SET", "key", "value"),
			want: "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n",
		},
		{
			name: "empty argument",
			cmd:  NewCommand("SET", "key", ""),
			want: "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$0\r\n\r\n",
		},
		{
			name: "binary-safe argument",
			cmd: &Command{
				Name: "SET",
				Args: []Encoder{StringEncoder("key"), ByteEncoder([]byte{0x00, '\r', '\n', 0xff})},
			},
			want: "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$4\r\n\x00\r\n\xff\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.encode()
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, []byte(tt.want)) {
				t.Errorf("encoded frame mismatch\ngot:  %swant: %s", spew.Sdump(got), spew.Sdump([]byte(tt.want)))
			}
		})
	}
}

// An encoded command frame must decode back through the reply-side array
// decoder, which is exactly what MockServer relies on to capture requests.
func TestCommandEncodeDecodesAsArray(t *testing.T) {
	cmd := NewCommand("LRANGE", "mylist", "0", "-1")
	frame, err := cmd.encode()
	if err != nil {
		t.Fatal(err)
	}

	rd := NewReplyDecoder(nil)
	rd.Reset(frame)
	args, err := rd.ReadStringArray()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"LRANGE", "mylist", "0", "-1"}
	if len(args) != len(want) {
		t.Fatalf("decoded %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, args[i], want[i])
		}
	}
}

type failingEncoder struct{}

var errEncoderBroken = errors.New("broken encoder")

func (failingEncoder) Encode() ([]byte, error) {
	return nil, errEncoderBroken
}

func TestCommandEncodeFailingArgument(t *testing.T) {
	cmd := &Command{Name: "SET", Args: []Encoder{failingEncoder{}}}
	if _, err := cmd.encode(); !errors.Is(err, errEncoderBroken) {
		t.Errorf("expected encoder error to propagate, got %v", err)
	}
}
