package fd

import (
	"sync"

	"rvos/defs"
	"rvos/fdops"
)

/// maxPacketNum is the mailbox's maximum queued-datagram count, per
/// original_source/os/src/fs/mail_box.rs's MAX_PACKET_NUM.
const maxPacketNum = 16

/// packetBufferSize is the largest single datagram a mailbox accepts.
const packetBufferSize = 256

/// Mailbox_t is a per-process FIFO datagram queue: each Write enqueues
/// one bounded packet (truncated to packetBufferSize), each Read dequeues
/// the oldest packet whole. A zero-length read buffer is a non-consuming
/// probe of "is anything queued", matching the original's user_buf.len()
/// == 0 special case.
type Mailbox_t struct {
	mu      sync.Mutex
	packets [][]byte
}

/// NewMailbox constructs an empty mailbox file descriptor.
func NewMailbox() *Fd_t {
	return &Fd_t{Fops: &Mailbox_t{}, Perms: FD_READ | FD_WRITE}
}

func (m *Mailbox_t) Write(src []byte) (int, defs.Err_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.packets) >= maxPacketNum {
		return 0, defs.EAGAIN
	}
	n := len(src)
	if n > packetBufferSize {
		n = packetBufferSize
	}
	if n == 0 {
		return 0, 0
	}
	pkt := make([]byte, n)
	copy(pkt, src[:n])
	m.packets = append(m.packets, pkt)
	return n, 0
}

func (m *Mailbox_t) Read(dst []byte) (int, defs.Err_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.packets) == 0 {
		return 0, defs.EAGAIN
	}
	if len(dst) == 0 {
		// Probe: report that a packet is waiting without consuming it.
		return 0, 0
	}
	pkt := m.packets[0]
	m.packets = m.packets[1:]
	n := copy(dst, pkt)
	return n, 0
}

func (m *Mailbox_t) Lseek(off int, whence int) (int, defs.Err_t) {
	return 0, defs.ESPIPE
}

func (m *Mailbox_t) Reopen() defs.Err_t { return 0 }
func (m *Mailbox_t) Close() defs.Err_t  { return 0 }

func (m *Mailbox_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ready fdops.Ready_t
	if len(m.packets) > 0 {
		ready |= fdops.R_READ
	}
	if len(m.packets) < maxPacketNum {
		ready |= fdops.R_WRITE
	}
	return ready & pm.Events, 0
}
