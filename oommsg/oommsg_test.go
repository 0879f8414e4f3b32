package oommsg

import "testing"

func TestOomChDeliversRequestAndResumeSignal(t *testing.T) {
	go func() {
		msg := <-OomCh
		if msg.Need != 4096 {
			t.Errorf("Need = %d, want 4096", msg.Need)
		}
		msg.Resume <- true
	}()

	resume := make(chan bool, 1)
	OomCh <- Oommsg_t{Need: 4096, Resume: resume}
	if !<-resume {
		t.Fatal("expected resume signal to be true")
	}
}
