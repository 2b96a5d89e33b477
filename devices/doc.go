// Package devices provides the masters and minions that sit on a bus: a
// word-addressed memory, a control-register accelerator, a bridge to a
// second bus, and a scripted or random traffic agent.
package devices
