// Package client is the HTTP client for the nexcart gateway.
//
// A Client plays one of two parts. As a visitor (after StartSession) it
// implements the widget's Transport and Presence and the mirror.Log the
// widget session mirrors into, so a widget.Session can run against a remote
// gateway:
//
//	c := client.New("https://chat.example.com")
//	sess, _ := c.StartSession(ctx, "", "")
//	w, _ := widget.New(widget.Config{
//	    UserID:    sess.VisitorID,
//	    Transport: c,
//	    Presence:  c,
//	    Mirror:    c,
//	})
//
// As a support agent (after Login) it replies to visitors, follows the live
// request feed and reads chat logs and mirror history.
//
// Streams are Server-Sent Events. Mirror subscriptions reconnect on their
// own; the support feed ends when the connection does.
package client
