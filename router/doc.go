// Package router dispatches a session's inbound kernel messages.
//
// Each attached session gets one goroutine that reads its Source in
// transport order and hands every envelope to exactly one consumer:
//
//   - execute_input and execute_request go to the replay buffer as inputs,
//     where activation commands set a reset marker;
//   - display_data, execute_result, update_display_data, stream and error
//     go to the replay buffer as outputs, and any display artifact it
//     creates is passed to Route.OnDisplay;
//   - comm_open, comm_msg and comm_close drive the client channel named by
//     the message's comm_id;
//   - everything else goes to Route.OnMessage.
//
// Because a session is served by a single goroutine, its replay buffer sees
// outputs in the order the kernel produced them.
//
//	r := router.New(buffer, router.WithObserver(obs))
//	err := r.Attach(ctx, router.Route{
//	    SessionID: sess.ID(),
//	    Source:    sess,
//	    Channels:  sess,
//	    OnDisplay: publish,
//	})
//	defer r.Detach(sess.ID())
package router
