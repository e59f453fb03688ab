// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package client implements the active replication client runtime.
//
// It wires the local document and blob stores, the server compatibility
// check, and one replicator into a single process lifecycle.
package client
