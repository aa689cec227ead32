// Package connectivity decides whether the hosted backend is reachable.
//
// An Observer probes the row endpoint on a fixed interval, re-probes on
// demand through Trigger, and on Linux can also re-probe when udev reports
// a network interface change. Callbacks registered with OnConnected and
// OnDisconnected run only when the observed state flips.
package connectivity
