// Package domain holds the core model types and the interfaces the real-time
// layer depends on. It has no dependencies on transport or storage packages.
package domain
