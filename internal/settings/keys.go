package settings

import (
	"fmt"
	"strings"
)

// StorageKey is a logical storage location. The set is closed: every key has
// a compiled-in default.
type StorageKey string

const (
	CustomerDocuments StorageKey = "customer_documents"
	ProductImages     StorageKey = "product_images"
	AudioMessages     StorageKey = "audio_messages"
	Invoices          StorageKey = "invoices"
	LeadAttachments   StorageKey = "lead_attachments"
	RecordBackups     StorageKey = "record_backups"
)

var defaults = map[StorageKey]string{
	CustomerDocuments: "assets/customer-documents/",
	ProductImages:     "assets/product-images/",
	AudioMessages:     "assets/audio-messages/",
	Invoices:          "assets/invoices/",
	LeadAttachments:   "assets/lead-attachments/",
	RecordBackups:     "backups/records/",
}

// Keys returns every defined key.
func Keys() []StorageKey {
	return []StorageKey{CustomerDocuments, ProductImages, AudioMessages, Invoices, LeadAttachments, RecordBackups}
}

// ParseKey validates a key name.
func ParseKey(name string) (StorageKey, error) {
	k := StorageKey(name)
	if _, ok := defaults[k]; !ok {
		return "", fmt.Errorf("unknown storage key %q", name)
	}
	return k, nil
}

// StoreID is the id of the key in the persisted override store.
func (k StorageKey) StoreID() string {
	return "storage.folder." + string(k)
}

// EnvVar is the environment variable that overrides the key.
func (k StorageKey) EnvVar() string {
	return "ASSETSYNC_FOLDER_" + strings.ToUpper(string(k))
}

// Default is the compiled-in value.
func (k StorageKey) Default() string {
	return defaults[k]
}

// Validate checks that every key has a non-empty default.
func Validate() error {
	for _, k := range Keys() {
		if strings.TrimSpace(defaults[k]) == "" {
			return fmt.Errorf("storage key %s has no default", k)
		}
	}
	if len(defaults) != len(Keys()) {
		return fmt.Errorf("storage key defaults out of sync: %d defaults, %d keys", len(defaults), len(Keys()))
	}
	return nil
}
