package module_image

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Moonlight-Companies/gologger/logger"

	"gosig/signature"
)

// scanCache remembers module relative scan results across runs. It is tied
// to one image build; a different timestamp or size discards it.
type scanCache struct {
	path string
	log  *logger.Logger

	mu    sync.Mutex
	dirty bool
	file  scanCacheFile
}

type scanCacheFile struct {
	TimeDateStamp uint32            `json:"time_date_stamp"`
	SizeOfImage   uint32            `json:"size_of_image"`
	Entries       map[string]uint64 `json:"entries"`
}

func cacheKey(section string, sig signature.Signature) string {
	return section + ":" + sig.String()
}

func loadScanCache(path string, stamp, size uint32, log *logger.Logger) *scanCache {
	c := &scanCache{
		path: path,
		log:  log,
		file: scanCacheFile{
			TimeDateStamp: stamp,
			SizeOfImage:   size,
			Entries:       make(map[string]uint64),
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to read scan cache: ", err)
		}
		return c
	}

	var onDisk scanCacheFile
	if err := json.Unmarshal(data, &onDisk); err != nil {
		log.Warn("discarding unreadable scan cache: ", err)
		return c
	}

	if onDisk.TimeDateStamp != stamp || onDisk.SizeOfImage != size {
		log.Infoln("Scan cache belongs to another build, discarding")
		c.dirty = true
		return c
	}

	for k, v := range onDisk.Entries {
		c.file.Entries[k] = v
	}
	log.Debugln("loaded", len(c.file.Entries), "cached scan results")
	return c
}

func (c *scanCache) lookup(key string) (uint64, bool) {
	if c == nil {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.file.Entries[key]
	return v, ok
}

func (c *scanCache) store(key string, offset uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.file.Entries[key]; ok && old == offset {
		return
	}
	c.file.Entries[key] = offset
	c.dirty = true
}

func (c *scanCache) save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scan cache: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write scan cache: %w", err)
	}

	c.dirty = false
	return nil
}
