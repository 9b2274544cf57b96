/*
Package record provides the “procshark record” command. It listens on a
channel, spawns the procshark-capture tool connecting to this channel, and then
stores the attributed packets it receives into the capture database. Recording
stops on SIGINT or SIGTERM, after an optional duration, or after an optional
number of packets: in all cases the channel gets closed, which in turn stops
the capture tool.
*/
package record
