// Package bootsvc installs the systemd unit that re-invokes gpuprep in
// resume mode after a reboot requested by a stage.
package bootsvc
