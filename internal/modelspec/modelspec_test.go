package modelspec

import "testing"

func TestLookupKnownVariants(t *testing.T) {
	for _, name := range VariantNames() {
		v, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q) error = %v", name, err)
		}
		if v.Name != name {
			t.Fatalf("Lookup(%q).Name = %q", name, v.Name)
		}
		if v.SamplingRate != 16000 && v.SamplingRate != 44100 {
			t.Fatalf("variant %q has unexpected sampling rate %d", name, v.SamplingRate)
		}
	}
}

func TestLookupUnknownVariant(t *testing.T) {
	if _, err := Lookup("huge_96k"); err == nil {
		t.Fatalf("Lookup of unknown variant should fail")
	}
}

func TestSequenceForEightSeconds(t *testing.T) {
	v, err := Lookup("large_44k_v2")
	if err != nil {
		t.Fatalf("Lookup error = %v", err)
	}
	seq, err := v.SequenceFor(8)
	if err != nil {
		t.Fatalf("SequenceFor error = %v", err)
	}
	if seq.ClipSeqLen != 64 {
		t.Fatalf("ClipSeqLen = %d, want 64", seq.ClipSeqLen)
	}
	if seq.SyncSeqLen != 200 {
		t.Fatalf("SyncSeqLen = %d, want 200", seq.SyncSeqLen)
	}
	if seq.LatentSeqLen != 345 {
		t.Fatalf("LatentSeqLen = %d, want 345", seq.LatentSeqLen)
	}
	if seq.SamplingRate != 44100 {
		t.Fatalf("SamplingRate = %d, want 44100", seq.SamplingRate)
	}
	if got := seq.SampleCount(); got != 8*44100 {
		t.Fatalf("SampleCount = %d, want %d", got, 8*44100)
	}
}

func TestSequenceForScalesWithDuration(t *testing.T) {
	v, _ := Lookup("small_16k")
	short, err := v.SequenceFor(2)
	if err != nil {
		t.Fatalf("SequenceFor(2) error = %v", err)
	}
	long, err := v.SequenceFor(4)
	if err != nil {
		t.Fatalf("SequenceFor(4) error = %v", err)
	}
	if long.ClipSeqLen != 2*short.ClipSeqLen {
		t.Fatalf("ClipSeqLen did not scale: %d vs %d", short.ClipSeqLen, long.ClipSeqLen)
	}
	if long.SyncSeqLen != 2*short.SyncSeqLen {
		t.Fatalf("SyncSeqLen did not scale: %d vs %d", short.SyncSeqLen, long.SyncSeqLen)
	}
}

func TestSequenceForRejectsNonPositive(t *testing.T) {
	v, _ := Lookup("small_44k")
	if _, err := v.SequenceFor(0); err == nil {
		t.Fatalf("SequenceFor(0) should fail")
	}
	if _, err := v.SequenceFor(-3); err == nil {
		t.Fatalf("SequenceFor(-3) should fail")
	}
}
