// Package model defines the normalized publication graph: conference items,
// their authors and keywords, and the join rows linking them.
package model
