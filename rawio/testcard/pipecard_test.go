package testcard

import (
	"testing"

	"github.com/golang/mock/gomock"
)

func TestPipeCardRoundTrip(t *testing.T) {
	card, err := New("wfbtest0")
	if err != nil {
		t.Fatal(err)
	}
	defer card.Close()

	if card.Name() != "wfbtest0" {
		t.Fatalf("unexpected name: %s", card.Name())
	}
	if card.Fd() < 0 {
		t.Fatalf("expected a valid file descriptor")
	}

	if err := card.Inject([]byte("frame from the air")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := card.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "frame from the air" {
		t.Fatalf("unexpected read: %q", buf[:n])
	}

	if _, err := card.Write([]byte("frame to inject")); err != nil {
		t.Fatal(err)
	}
	n, err = card.Injected(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "frame to inject" {
		t.Fatalf("unexpected injected frame: %q", buf[:n])
	}
}

func TestMockCardRecordsCalls(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockCard(ctrl)

	mock.EXPECT().Name().Return("mock0")
	mock.EXPECT().Write(gomock.Any()).Return(5, nil)

	if mock.Name() != "mock0" {
		t.Fatalf("unexpected name")
	}
	n, err := mock.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("unexpected write result: n=%d err=%v", n, err)
	}
}
