// Package demo holds example scenario catalogs. The harness, the command
// line and the tests run them by name.
package demo
