// Package serialization persists and restores object graphs whose large
// binary buffers (storages) are externalized from the graph structure and
// tagged with the device they reside on, so they can be relocated on
// reload.
//
// Three on-disk generations are supported:
//
//	Current archive (read + write): a zip container with members
//	  metadata        CBOR metadata record (magic, protocol version,
//	                  platform info)
//	  graph           object graph with storages replaced by references
//	  buffers/<key>   raw bytes of one externalized storage
//
//	Legacy sequential archive (read only): a tar container with members
//	  storages        storage records + raw payloads, then view records
//	  tensors         tensor descriptors with a fixed little-endian
//	                  binary layout
//	  pickle          the object graph, referencing the two tables above
//
//	Legacy flat stream (detected only): a marker-prefixed byte stream;
//	  recognized by the dispatcher but yields no reconstructed object.
//
// The format of a source is detected from its leading bytes; sources must
// be seekable. Storages keep their saved device tag by default and can be
// remapped at load time with a tag string, a device, a tag-to-tag map, or
// a callback.
//
// Example usage:
//
//	// Save an object graph
//	err := serialization.SaveFile(stateDict, "model.pt")
//
//	// Load it back, forcing every storage onto the CPU
//	obj, err := serialization.LoadFile("model.pt", "cpu")
package serialization
