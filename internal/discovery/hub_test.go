package discovery

import (
	"sync"
	"testing"
)

func TestHub_PublishToSubscribers(t *testing.T) {
	var h hub
	var a, b int

	unsubA := h.subscribe(func(DeviceInfoPackage) { a++ })
	h.subscribe(func(DeviceInfoPackage) { b++ })

	h.publish(DeviceInfoPackage{})
	if a != 1 || b != 1 {
		t.Fatalf("a=%d b=%d, want 1 1", a, b)
	}

	unsubA()
	unsubA()
	if h.len() != 1 {
		t.Fatalf("len() = %d, want 1", h.len())
	}

	h.publish(DeviceInfoPackage{})
	if a != 1 || b != 2 {
		t.Errorf("a=%d b=%d, want 1 2", a, b)
	}
}

func TestHub_EmptyPublish(t *testing.T) {
	var h hub
	h.publish(DeviceInfoPackage{})
	if h.len() != 0 {
		t.Errorf("len() = %d", h.len())
	}
}

func TestHub_ConcurrentSubscribe(t *testing.T) {
	var h hub
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := h.subscribe(func(DeviceInfoPackage) {})
			unsub()
		}()
		go func() {
			defer wg.Done()
			h.publish(DeviceInfoPackage{})
		}()
	}
	wg.Wait()

	if h.len() != 0 {
		t.Errorf("len() = %d after all unsubscribed", h.len())
	}
}
