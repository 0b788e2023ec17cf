package protocol

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		first byte
		want  Kind
	}{
		{'G', KindHTTP},
		{'P', KindHTTP},
		{'A', KindHTTP},
		{'Z', KindHTTP},
		{'{', KindSocket},
		{'[', KindSocket},
		{' ', KindSocket},
		{'g', KindSocket},
		{0x00, KindSocket},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Detect(tt.first), "first byte %q", tt.first)
	}
	assert.Equal(t, "http", KindHTTP.String())
	assert.Equal(t, "socket", KindSocket.String())
}

func TestSniffReplaysFirstChunk(t *testing.T) {
	tests := []struct {
		name  string
		first string
		rest  string
		want  Kind
	}{
		{"http", "GET / HTTP/1.1\r\n", "Host: x\r\n\r\n", KindHTTP},
		{"socket", `{"method":"add",`, `"params":[1,2],"id":1}`, KindSocket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := net.Pipe()
			defer server.Close()

			go func() {
				client.Write([]byte(tt.first))
				client.Write([]byte(tt.rest))
				client.Close()
			}()

			kind, conn, err := Sniff(server, time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)

			all, err := io.ReadAll(conn)
			require.NoError(t, err)
			assert.Equal(t, tt.first+tt.rest, string(all))
		})
	}
}

func TestSniffClosedBeforeFirstByte(t *testing.T) {
	server, client := net.Pipe()
	client.Close()

	_, _, err := Sniff(server, time.Second)
	assert.Error(t, err)
}
