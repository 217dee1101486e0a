package storage

// IStorage is the interface for all snapshot storage backends.
// A backend holds exactly one snapshot blob; every Write replaces it as a whole.
type IStorage interface {
	// Read returns the current snapshot blob.
	// It returns nil and no error if no snapshot was written yet.
	Read() ([]byte, error)
	// Write replaces the current snapshot blob.
	// A failed Write leaves the previous snapshot intact.
	Write(data []byte) error
	// Close releases the resources of the backend
	Close() error
	// String describes the backend and its location for logs
	String() string
}
