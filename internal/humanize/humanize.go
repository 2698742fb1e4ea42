// Package humanize formats byte counts for the CLI's --stats, --backup and
// --restore output, grounded directly on mmp-bk's util.FmtBytes.
package humanize

import "fmt"

// Bytes renders n as a human-readable size with binary (1024-based) units.
func Bytes(n int64) string {
	switch {
	case n >= 1024*1024*1024*1024:
		return fmt.Sprintf("%.2f TiB", float64(n)/(1024*1024*1024*1024))
	case n >= 1024*1024*1024:
		return fmt.Sprintf("%.2f GiB", float64(n)/(1024*1024*1024))
	case n >= 1024*1024:
		return fmt.Sprintf("%.2f MiB", float64(n)/(1024*1024))
	case n >= 1024:
		return fmt.Sprintf("%.2f KiB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
