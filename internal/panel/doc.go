// Package panel serves the operator control surface and the renderer page.
//
// A front-end build (static files with an index.html) is served from a
// directory when one is configured. Without one, a small embedded status page
// shows the endpoints and the live snapshot stream.
//
// Both modes implement SPA fallback: if a requested file does not exist,
// index.html is served so client-side routes such as /control or /render
// resolve. Responses carry no-cache headers because the renderer must pick up
// a rebuilt bundle on the next browser-source refresh.
package panel
