// Package config loads and saves tickwire.json, the settings file shared by
// the tickwire commands.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "address": ":7000",
//	    "tickRate": 20,
//	    "readTimeout": "60s",
//	    "writeTimeout": "10s",
//	    "heartbeat": "20s",
//	    "maxPeers": 0,
//	    "sendQueue": 64
//	  },
//	  "replication": {
//	    "resyncPeriod": 100,
//	    "maxDesyncs": 3,
//	    "compressed": false
//	  },
//	  "metrics": {"enabled": true, "namespace": "tickwire"},
//	  "tracing": {"enabled": false, "tracerName": "tickwire", "sampleEvery": 1},
//	  "recording": {
//	    "enabled": true,
//	    "backend": "disk",
//	    "dir": "recordings",
//	    "s3": {"bucket": "replays", "prefix": "tickwire/", "region": "us-east-1"},
//	    "redis": {"addr": "localhost:6379", "prefix": "tickwire:rec:", "ttl": "24h"}
//	  },
//	  "world": {"entities": 64, "seed": 1}
//	}
//
// Durations are Go duration strings. Omitted fields take their defaults.
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    errors.PrintError(err)
//	    os.Exit(1)
//	}
//
//	srv := server.New(world, reg, cfg.ServerConfig())
package config
