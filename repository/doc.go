// Package repository provides a generic Bun repository bound to the
// transaction of one database session.
package repository
