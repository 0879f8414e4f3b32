package accnt

import "testing"

func TestUtaddAndSystaddAccumulate(t *testing.T) {
	var a Accnt_t
	a.Utadd(100)
	a.Utadd(50)
	a.Systadd(10)
	if a.Userns != 150 {
		t.Fatalf("Userns = %d, want 150", a.Userns)
	}
	if a.Sysns != 10 {
		t.Fatalf("Sysns = %d, want 10", a.Sysns)
	}
}

func TestAddMergesTwoRecords(t *testing.T) {
	var a, b Accnt_t
	a.Utadd(100)
	a.Systadd(20)
	b.Utadd(5)
	b.Systadd(1)

	a.Add(&b)
	if a.Userns != 105 || a.Sysns != 21 {
		t.Fatalf("after Add: Userns=%d Sysns=%d, want 105, 21", a.Userns, a.Sysns)
	}
}

func TestFetchEncodesTwoTimevalPairs(t *testing.T) {
	var a Accnt_t
	a.Utadd(int(2_500_000_000)) // 2.5s
	a.Systadd(int(1_000_000))   // 1ms

	buf := a.Fetch()
	if len(buf) != 32 {
		t.Fatalf("Fetch() returned %d bytes, want 32", len(buf))
	}
}
