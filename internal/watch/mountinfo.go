package watch

import "slices"

// diffMounts returns the mount points that appeared and disappeared
// between two snapshots, sorted.
func diffMounts(before, after map[string]struct{}) (mounted, unmounted []string) {
	for point := range after {
		if _, ok := before[point]; !ok {
			mounted = append(mounted, point)
		}
	}
	for point := range before {
		if _, ok := after[point]; !ok {
			unmounted = append(unmounted, point)
		}
	}
	slices.Sort(mounted)
	slices.Sort(unmounted)
	return mounted, unmounted
}
