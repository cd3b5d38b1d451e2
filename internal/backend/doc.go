// Package backend defines the capability contract that every microVM
// provider must implement, along with a Provider that selects a preferred
// backend at startup and resolves it by name on demand.
package backend
