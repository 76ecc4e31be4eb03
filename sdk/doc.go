// Package voxlive is the consumer-facing surface of the live conversation
// client. A Session wires the protocol transport to the microphone capture
// and scheduled playback pipelines, accumulates streaming transcripts into
// discrete conversation messages, and exposes start/stop/send-text controls.
//
// Basic usage:
//
//	session := voxlive.NewSession(voxlive.Config{
//		APIKey: os.Getenv("GEMINI_API_KEY"),
//		Model:  "gemini-2.0-flash-live-001",
//	}, voxlive.Handlers{
//		OnMessage: func(m voxlive.Message) { fmt.Println(m.Role, m.Text) },
//	})
//	if err := session.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer session.End()
package voxlive
