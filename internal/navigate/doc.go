// Package navigate drives one authenticated browser session through a site's
// list pages and item pages.
//
// The Controller is a small state machine:
//
//	LoggedOut -> Authenticating -> AtListPage -> AtItemPage -> Extracting
//	                                   ^                          |
//	                                   +------- Recovering <------+
//
// Per-item failures are recorded and skipped. Failing to get back to the list
// page is fatal for the run.
package navigate
