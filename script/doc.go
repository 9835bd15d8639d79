// Package script binds per-entity guest modules to the world.
//
// A Loader turns core modules from an fs.FS into compiled components. A
// Runtime owns one Instance per scripted entity and drives the frame:
//
//	uniform sync -> timer pass -> tick pass -> event flush
//
// Guests never mutate the world. Host functions append Commands to the
// instance's Host, and the runtime drains them through the Dispatcher right
// after each guest call returns. Events published while draining are
// delivered to every live instance when the entry point finishes.
//
// A guest fault tears down only the faulting instance. Commands referencing
// unknown assets are logged and dropped.
package script
