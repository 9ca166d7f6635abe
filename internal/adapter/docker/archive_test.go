package docker

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/docker/docker/pkg/stdcopy"
)

func TestDemuxStripsFraming(t *testing.T) {
	var framed bytes.Buffer
	if _, err := stdcopy.NewStdWriter(&framed, stdcopy.Stdout).Write([]byte("epoch 1\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := stdcopy.NewStdWriter(&framed, stdcopy.Stderr).Write([]byte("warning\n")); err != nil {
		t.Fatal(err)
	}

	rc := demux(io.NopCloser(&framed))
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "epoch 1\nwarning\n" {
		t.Fatalf("got %q", got)
	}
}

type blockingReader struct {
	once   sync.Once
	closed chan struct{}
}

func (r *blockingReader) Read([]byte) (int, error) {
	<-r.closed
	return 0, io.EOF
}

func (r *blockingReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func TestDemuxCloseReleasesSource(t *testing.T) {
	src := &blockingReader{closed: make(chan struct{})}
	rc := demux(src)
	if err := rc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-src.closed:
	default:
		t.Fatal("source not closed")
	}
}
