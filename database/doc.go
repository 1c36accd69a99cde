// Package database builds the application and migration engines from
// settings, applies pool options when the backing store supports pooling,
// and hands out scoped sessions through DatabaseContext.
package database
