// Package acp is the client side of the Agent Client Protocol (ACP):
// JSON-RPC 2.0 over an agent process's stdin and stdout.
//
// A Session drives one conversation with one agent process through the
// handshake, optional authentication, session creation and prompt turns:
//
//	tr, err := acp.Spawn(acp.ProcessConfig{Path: "gemini", Args: []string{"--experimental-acp"}})
//	if err != nil {
//	    return err
//	}
//	s := acp.NewSession(tr, acp.WithPermissionPolicy(acp.ReadOnlyPolicy{}))
//	defer s.Close(context.Background())
//
//	go func() {
//	    for e := range s.Events() {
//	        if chunk, ok := e.(acp.MessageChunkEvent); ok && chunk.Role == acp.RoleAgent {
//	            fmt.Print(chunk.Content.Text)
//	        }
//	    }
//	}()
//
//	if _, err := s.Initialize(ctx); err != nil {
//	    return err
//	}
//	if _, err := s.CreateSession(ctx, acp.NewSessionOptions{CWD: dir}); err != nil {
//	    return err
//	}
//	result, err := s.SendTurn(ctx, "What files are in this directory?")
//
// # Events and back-pressure
//
// Agent notifications are turned into events on a single goroutine and
// delivered in order. The session never drops an event: a slow consumer
// stalls reading from the agent instead.
//
// # Permissions
//
// Permission requests are first shown to the configured PermissionPolicy.
// When it answers DecisionAsk the session raises PermissionPending, emits a
// PermissionRequestEvent and waits for RespondPermission, Cancel or Close.
package acp
