// Package recording captures the server's snapshot stream and plays it
// back.
//
// A Recorder is a server.FrameSink. It appends every frame to an in-memory
// segment and hands full segments to a Store. Stores are provided for the
// local filesystem, S3 and Redis, plus a MemoryStore for tests:
//
//	store, err := recording.NewDiskStore("./recordings")
//	rec, err := recording.NewRecorder(store, session, srv.Hello(uuid.Nil, 0), recording.Config{})
//	srv.SetSink(rec)
//	defer rec.Close(ctx)
//
// # Format
//
// A recording is a sequence of protocol frames split across segments named
// "<session>/<seq>.twr". The first frame is a Handshake frame carrying the
// ServerHello the stream was produced with, so a player can check the
// schema fingerprint and tick rate. The last frame is a Close control frame
// flagged FlagFinal. A stream without it was cut short.
//
// # Playback
//
//	p, err := recording.OpenPlayer(ctx, store, session)
//	defer p.Close()
//	for {
//	    frame, err := p.ReadFrame(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    snap, err := reader.Read(frame.Payload)
//	}
package recording
