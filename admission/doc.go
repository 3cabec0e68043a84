/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package admission decides whether a request may be served based on the number of requests that are currently
// in flight from the same client address or to the same resource.
//
// Counters live in shared memory (see Store), so every process of a worker pool sees the same numbers.
// All counter mutations are serialized by a single cross-process lock.
// Engine.Admit reserves counters and returns a Decision; Engine.Complete releases what was reserved.
package admission
