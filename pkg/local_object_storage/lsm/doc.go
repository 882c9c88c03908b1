// Package lsm implements the sorted key-value trees object stores keep their
// records in.
//
// Every Tree has up to three layers, newest first: a mutable in-memory layer
// receiving inserts, a frozen in-memory layer that exists while a flush is in
// progress, and the persistent layer stored in a bbolt bucket. Reads merge all
// layers, so that the newest layer wins for equal keys and removal markers
// hide older layers.
//
// All trees of a DB are flushed together in a single bbolt transaction, which
// makes Flush the durability point of the whole store.
//
// Iterators hold a bbolt read transaction until closed. A goroutine must close
// its iterator before opening another one or calling Find, otherwise it may
// deadlock with a concurrent flush remapping the database file.
package lsm
