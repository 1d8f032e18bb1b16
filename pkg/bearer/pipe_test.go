package bearer

import (
	"bytes"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
)

func TestPipeDelivery(t *testing.T) {
	defer test.CheckRoutines(t)()

	a, b := Pipe(PipeConfig{})
	defer a.Close()

	want := []byte{0x68, 0x01, 0x02, 0x03}
	if err := a.Send(want); err != nil {
		t.Fatal(err)
	}
	got, err := b.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("received %x, want %x", got, want)
	}
}

func TestPipeMTU(t *testing.T) {
	defer test.CheckRoutines(t)()

	a, _ := Pipe(PipeConfig{})
	defer a.Close()

	if a.MTU() != NetworkMTU {
		t.Errorf("MTU = %d, want %d", a.MTU(), NetworkMTU)
	}
	if err := a.Send(make([]byte, NetworkMTU+1)); err != ErrFrameTooLarge {
		t.Errorf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestPipeFilterDrops(t *testing.T) {
	defer test.CheckRoutines(t)()

	var n int
	a, b := Pipe(PipeConfig{
		Filter: func([]byte) bool {
			n++
			return n%2 == 0 // drop every odd frame
		},
	})
	defer a.Close()

	if err := a.Send([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := a.Send([]byte{2}); err != nil {
		t.Fatal(err)
	}
	got, err := b.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{2}) {
		t.Errorf("received %x, want the second frame only", got)
	}
}

func TestPipeClose(t *testing.T) {
	defer test.CheckRoutines(t)()

	a, b := Pipe(PipeConfig{})

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Receive()
		errCh <- err
	}()

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errCh:
		if err != ErrClosed {
			t.Errorf("Receive err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock on close")
	}

	if err := a.Send([]byte{1}); err != ErrClosed {
		t.Errorf("Send err = %v, want ErrClosed", err)
	}
}
