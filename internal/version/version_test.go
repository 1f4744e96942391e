package version

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		local  int64
		base   int64
		remote int64
		want   SyncClass
	}{
		{"in sync", 3, 3, 3, UpToDate},
		{"local edits only", 5, 3, 3, LocalAhead},
		{"remote edits only", 3, 3, 7, RemoteAhead},
		{"both sides moved", 5, 3, 7, Diverged},
		{"new artifact not on hub", 1, 0, 0, LocalAhead},
		{"new remote artifact", 0, 0, 4, RemoteAhead},
		{"nothing anywhere", 0, 0, 0, UpToDate},
		{"same versions independent lineage", 4, 2, 4, UpToDate},
		{"remote rewound below base", 5, 3, 2, Diverged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.local, tt.base, tt.remote)
			if got != tt.want {
				t.Errorf("Classify(%d, %d, %d) = %v, want %v",
					tt.local, tt.base, tt.remote, got, tt.want)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	// The same triple must always yield the same class.
	for i := 0; i < 100; i++ {
		if got := Classify(5, 3, 7); got != Diverged {
			t.Fatalf("iteration %d: got %v, want Diverged", i, got)
		}
	}
}

func TestSyncClassString(t *testing.T) {
	cases := map[SyncClass]string{
		UpToDate:      "up-to-date",
		LocalAhead:    "local-ahead",
		RemoteAhead:   "remote-ahead",
		Diverged:      "diverged",
		SyncClass(42): "unknown",
	}
	for class, want := range cases {
		if got := class.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
