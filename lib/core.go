package lib

import (
	"fmt"
	"log"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"

	"github.com/sablewire/rdt/config"
)

type CoreConfig struct {
	PayloadPoolSize      int  // how many payload chunks in the pool
	PoolDebug            bool // ring pool debug setting
	ProcessTimeThreshold int  // chunk processing time threshold in ms
}

func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		PayloadPoolSize:      2000,
		PoolDebug:            false,
		ProcessTimeThreshold: 10,
	}
}

func NewCoreConfig(cfg *config.Config) *CoreConfig {
	coreCfg := DefaultCoreConfig()
	coreCfg.PayloadPoolSize = cfg.PayloadPoolSize
	coreCfg.PoolDebug = cfg.PoolDebug
	return coreCfg
}

// Core owns the registry of live connections. The single external tick
// lands here and fans out to every connection; creation and destruction go
// through the same registry so a tick pass tolerates removal mid-iteration.
type Core struct {
	config        *CoreConfig
	connectionMap map[string]*Connection
	nextConnID    int
}

func NewCore(coreConfig *CoreConfig) (*Core, error) {
	if coreConfig == nil {
		coreConfig = DefaultCoreConfig()
	}
	core := &Core{
		config:        coreConfig,
		connectionMap: make(map[string]*Connection),
	}

	rp.Debug = coreConfig.PoolDebug
	Pool = rp.NewRingPool("RDT: ", coreConfig.PayloadPoolSize, NewPayload, MaxSegDataSize)
	Pool.Debug = coreConfig.PoolDebug
	Pool.ProcessTimeThreshold = time.Duration(coreConfig.ProcessTimeThreshold) * time.Millisecond

	log.Println("RDT protocol core started")
	return core, nil
}

// NewConnection registers a connection over the given adapter. An empty key
// gets a generated one.
func (c *Core) NewConnection(key string, adapter DatagramAdapter, connConfig *ConnectionConfig) (*Connection, error) {
	if key == "" {
		key = fmt.Sprintf("conn-%d", c.nextConnID)
		c.nextConnID++
	}
	if _, ok := c.connectionMap[key]; ok {
		return nil, fmt.Errorf("connection %s already exists", key)
	}
	conn := newConnection(c, key, adapter, connConfig)
	c.connectionMap[key] = conn
	log.Printf("New connection is ready: %s\n", key)
	return conn, nil
}

// Tick advances every live connection by one timer tick. The pass iterates
// a snapshot so a connection destroying itself mid-pass cannot upset the
// walk.
func (c *Core) Tick() {
	if len(c.connectionMap) == 0 {
		return
	}
	live := make([]*Connection, 0, len(c.connectionMap))
	for _, conn := range c.connectionMap {
		live = append(live, conn)
	}
	for _, conn := range live {
		conn.onTick()
	}
}

func (c *Core) remove(key string) {
	if _, ok := c.connectionMap[key]; !ok {
		log.Printf("Connection %s does not exist in the registry", key)
		return
	}
	delete(c.connectionMap, key)
	log.Printf("Connection %s terminated and removed.", key)
}

func (c *Core) ConnectionCount() int {
	return len(c.connectionMap)
}

// Close destroys every live connection and drops the registry.
func (c *Core) Close() error {
	for _, conn := range c.connectionMap {
		conn.Destroy()
	}
	c.connectionMap = make(map[string]*Connection)
	log.Println("RDT core closed gracefully.")
	return nil
}
