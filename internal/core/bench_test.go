package core

import (
	"context"
	"strconv"
	"testing"
)

type discardMember struct{ name string }

func (d discardMember) ID() string        { return d.name + "-conn" }
func (d discardMember) Name() string      { return d.name }
func (d discardMember) Send(string) error { return nil }

func benchmarkRoomBroadcast(b *testing.B, recipients int) {
	reg := NewRegistry(nil, nil, nil, DefaultRegistryOptions())
	roomID, err := reg.CreateRoom(context.Background(), "bench", "sender", "")
	if err != nil {
		b.Fatalf("CreateRoom: %v", err)
	}

	sender := discardMember{name: "sender"}
	if _, err := reg.Join(sender, roomID, ""); err != nil {
		b.Fatalf("Join: %v", err)
	}
	for i := 0; i < recipients; i++ {
		if _, err := reg.Join(discardMember{name: "c" + strconv.Itoa(i)}, roomID, ""); err != nil {
			b.Fatalf("Join: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := reg.Say(sender, "payload"); err != nil {
			b.Fatalf("Say: %v", err)
		}
	}
}

func BenchmarkRoomBroadcast_10(b *testing.B)  { benchmarkRoomBroadcast(b, 10) }
func BenchmarkRoomBroadcast_100(b *testing.B) { benchmarkRoomBroadcast(b, 100) }
func BenchmarkRoomBroadcast_500(b *testing.B) { benchmarkRoomBroadcast(b, 500) }
