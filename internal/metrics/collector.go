package metrics

import (
	"os"
	"path/filepath"
	"time"

	"photovault/internal/logging"
)

// Collector periodically samples database file sizes and connection counts.
type Collector struct {
	dataDir   string
	databases []string
	interval  time.Duration
	stopChan  chan struct{}
}

// NewCollector creates a collector for the given logical database names
// (e.g., "main", "settings", "history", "index") in the data directory.
func NewCollector(dataDir string, databases []string, interval time.Duration) *Collector {
	return &Collector{
		dataDir:   dataDir,
		databases: databases,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the collection loop.
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the collection loop.
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	for _, db := range c.databases {
		base := filepath.Join(c.dataDir, db+".db")
		c.observeFile(db, "main", base)
		c.observeFile(db, "wal", base+"-wal")
		c.observeFile(db, "shm", base+"-shm")
	}
}

func (c *Collector) observeFile(db, kind, path string) {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Debug("metrics: stat %s failed: %v", path, err)
		}
		DBSizeBytes.WithLabelValues(db, kind).Set(0)
		return
	}
	DBSizeBytes.WithLabelValues(db, kind).Set(float64(info.Size()))
}
