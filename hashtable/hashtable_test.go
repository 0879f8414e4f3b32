package hashtable

import "testing"

func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func TestSetGetRoundTrip(t *testing.T) {
	ht := New[string, int](8, hashString)
	if !ht.Set("a", 1) {
		t.Fatal("first Set of a new key should succeed")
	}
	v, ok := ht.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}
}

func TestSetExistingKeyFails(t *testing.T) {
	ht := New[string, int](8, hashString)
	ht.Set("a", 1)
	if ht.Set("a", 2) {
		t.Fatal("Set of an existing key should report false and not overwrite")
	}
	v, _ := ht.Get("a")
	if v != 1 {
		t.Fatalf("existing value should be unchanged, got %d", v)
	}
}

func TestGetMissingKey(t *testing.T) {
	ht := New[string, int](8, hashString)
	if _, ok := ht.Get("missing"); ok {
		t.Fatal("Get of a missing key should report false")
	}
}

func TestDelRemovesKey(t *testing.T) {
	ht := New[string, int](8, hashString)
	ht.Set("a", 1)
	ht.Del("a")
	if _, ok := ht.Get("a"); ok {
		t.Fatal("expected key gone after Del")
	}
}

func TestDelOfMissingKeyPanics(t *testing.T) {
	ht := New[string, int](8, hashString)
	defer func() {
		if recover() == nil {
			t.Fatal("expected Del of a missing key to panic")
		}
	}()
	ht.Del("missing")
}

func TestSizeAndElemsReflectContents(t *testing.T) {
	ht := New[string, int](4, hashString)
	want := map[string]int{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5}
	for k, v := range want {
		ht.Set(k, v)
	}
	if got := ht.Size(); got != len(want) {
		t.Fatalf("Size() = %d, want %d", got, len(want))
	}
	got := make(map[string]int)
	for _, p := range ht.Elems() {
		got[p.Key] = p.Value
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Elems missing or wrong value for %q: got %d want %d", k, got[k], v)
		}
	}
}

func TestBucketChainKeepsDistinctKeysWithSameBucket(t *testing.T) {
	// size=1 forces every key into the same bucket, exercising the
	// sorted-chain insert/lookup/delete path end to end.
	ht := New[string, int](1, hashString)
	keys := []string{"alpha", "beta", "gamma", "delta"}
	for i, k := range keys {
		if !ht.Set(k, i) {
			t.Fatalf("Set(%q) failed", k)
		}
	}
	for i, k := range keys {
		v, ok := ht.Get(k)
		if !ok || v != i {
			t.Fatalf("Get(%q) = %d, %v; want %d, true", k, v, ok, i)
		}
	}
	ht.Del("beta")
	if _, ok := ht.Get("beta"); ok {
		t.Fatal("expected beta gone after Del")
	}
	if _, ok := ht.Get("gamma"); !ok {
		t.Fatal("expected gamma still present after deleting a different key in the same bucket")
	}
}
