package watch

import (
	"slices"
	"testing"
)

func TestDiffMounts(t *testing.T) {
	before := map[string]struct{}{"/": {}, "/proc": {}, "/media/old": {}}
	after := map[string]struct{}{"/": {}, "/proc": {}, "/media/usb1": {}, "/media/usb0": {}}

	mounted, unmounted := diffMounts(before, after)
	if !slices.Equal(mounted, []string{"/media/usb0", "/media/usb1"}) {
		t.Errorf("mounted=%v", mounted)
	}
	if !slices.Equal(unmounted, []string{"/media/old"}) {
		t.Errorf("unmounted=%v", unmounted)
	}
}
