package policy

import "testing"

func TestSectorErasable(t *testing.T) {
	tests := []struct {
		name   string
		sector uint32
		want   bool
	}{
		{"bootloader sector always refused", 0, false},
		{"sector inside updater range refused", 1, false},
		{"last updater sector refused", updaterLastSector, false},
		{"sector just past updater range allowed", updaterLastSector + 1, true},
		{"distant application sector allowed", 200, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SectorErasable(tc.sector); got != tc.want {
				t.Errorf("SectorErasable(%d) = %v, want %v", tc.sector, got, tc.want)
			}
		})
	}
}

func TestRangeProgrammable(t *testing.T) {
	tests := []struct {
		name string
		addr uint32
		n    uint32
		want bool
	}{
		{"wholly inside updater refused", UpdaterStart, UpdaterEnd - UpdaterStart, false},
		{"wholly inside, smaller span refused", UpdaterStart + 4, 8, false},
		{"application range allowed", 0x4000, 0x100, true},
		{
			name: "straddles the updater boundary is allowed (verbatim source behavior, see Open Question 1)",
			addr: UpdaterStart - 16,
			n:    32,
			want: true,
		},
		{
			name: "starts inside, ends outside is allowed",
			addr: UpdaterStart,
			n:    (UpdaterEnd - UpdaterStart) + 16,
			want: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := RangeProgrammable(tc.addr, tc.n); got != tc.want {
				t.Errorf("RangeProgrammable(%#x, %#x) = %v, want %v", tc.addr, tc.n, got, tc.want)
			}
		})
	}
}
