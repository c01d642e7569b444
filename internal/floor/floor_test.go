package floor

import "testing"

func TestBargeInTriggersStop(t *testing.T) {
    f := New()
    f.ObserveMedia(1000)
    if !f.OnAudio("I1") {
        t.Fatalf("first chunk should start the utterance")
    }
    f.ObserveMedia(1450)
    d := f.OnSpeechStarted()
    if !d.ShouldStop || d.Reason != "barge_in" || d.StopItemID != "I1" {
        t.Fatalf("expected stop on barge-in, got %+v", d)
    }
    if d.ElapsedMs != 450 {
        t.Fatalf("elapsed = %d, want 450", d.ElapsedMs)
    }
    if f.Speaking() || f.ActiveItemID() != "" {
        t.Fatalf("barge-in should return to idle")
    }
    if _, ok := f.ResponseStartMs(); ok {
        t.Fatalf("response start should be cleared")
    }
}

func TestElapsedClampsToZero(t *testing.T) {
    if got := ElapsedMs(900, 1000); got != 0 {
        t.Fatalf("ElapsedMs(900, 1000) = %d, want 0", got)
    }
    if got := ElapsedMs(1450, 1000); got != 450 {
        t.Fatalf("ElapsedMs(1450, 1000) = %d, want 450", got)
    }
}

func TestSpeechStartedIdleDoesNothing(t *testing.T) {
    f := New()
    f.ObserveMedia(1000)
    d := f.OnSpeechStarted()
    if d.ShouldStop {
        t.Fatalf("should not stop when idle")
    }
}

func TestMediaClockIsMonotonic(t *testing.T) {
    f := New()
    f.ObserveMedia(1000)
    f.OnAudio("I1")
    f.ObserveMedia(800)
    if f.LatestMediaMs() != 1000 {
        t.Fatalf("clock regressed to %d", f.LatestMediaMs())
    }
    d := f.OnSpeechStarted()
    if d.ElapsedMs != 0 {
        t.Fatalf("elapsed = %d, want 0", d.ElapsedMs)
    }
}

func TestLaterChunksKeepResponseStart(t *testing.T) {
    f := New()
    f.ObserveMedia(100)
    f.OnAudio("")
    f.ObserveMedia(300)
    if f.OnAudio("I2") {
        t.Fatalf("second chunk should not restart the utterance")
    }
    f.OnAudio("")
    if start, ok := f.ResponseStartMs(); !ok || start != 100 {
        t.Fatalf("response start = %d,%v want 100,true", start, ok)
    }
    if f.ActiveItemID() != "I2" {
        t.Fatalf("item id = %q, want I2", f.ActiveItemID())
    }
}

func TestPlaybackDoneClearsSpeaking(t *testing.T) {
    f := New()
    f.OnAudio("I1")
    f.OnPlaybackDone()
    d := f.OnSpeechStarted()
    if d.ShouldStop {
        t.Fatalf("should not request stop after playback finished")
    }
}

func TestResetClearsClock(t *testing.T) {
    f := New()
    f.ObserveMedia(5000)
    f.OnAudio("I1")
    f.Reset()
    if f.LatestMediaMs() != 0 || f.Speaking() {
        t.Fatalf("reset left state behind: %+v", f)
    }
}
