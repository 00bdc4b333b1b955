package secrets

// SecretType tags a secret block with the format/protocol namespace it
// belongs to. The values are defined by the capture-file format: each is
// a four-character code packed big-endian into 32 bits by the producer.
type SecretType uint32

// Secret-block types emitted by capture files. Foreign producers may
// emit values outside this list; dispatch treats those as unknown and
// drops them silently.
const (
	// SecretTypeTLSKeyLog carries NSS key-log lines for TLS sessions ("TLSK").
	SecretTypeTLSKeyLog SecretType = 0x544c534b

	// SecretTypeSSHKeyLog carries SSH key-log material ("SSHK").
	SecretTypeSSHKeyLog SecretType = 0x5353484b

	// SecretTypeWireGuardKeyLog carries WireGuard key-log lines ("WGKL").
	SecretTypeWireGuardKeyLog SecretType = 0x57474b4c

	// SecretTypeOPCUAKeyLog carries OPC UA key-log material ("UAKL").
	SecretTypeOPCUAKeyLog SecretType = 0x55414b4c
)

// BlockHandler consumes one raw secret block of the type it was
// registered for. Handlers own their failure handling entirely; the
// registry neither inspects nor reports what happens inside them.
type BlockHandler func(typ SecretType, block []byte)

// RegisterType installs handler for the given secret-block type,
// replacing any previous registration for the same type. It never fails:
// any 32-bit value is a valid type and re-registration is an overwrite,
// so the last protocol decoder to register wins.
func (s *Secrets) RegisterType(typ SecretType, handler BlockHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.callbacks[typ] = handler
}

// DispatchSecrets routes one secret block, as extracted from the capture
// stream, to the handler registered for its type. The call is
// synchronous: the handler runs on the caller's goroutine before
// DispatchSecrets returns.
//
// Blocks of an unregistered type are dropped silently; capture files
// written by newer or foreign producers must not abort processing.
func (s *Secrets) DispatchSecrets(typ SecretType, block []byte) {
	s.mu.RLock()
	handler := s.callbacks[typ]
	s.mu.RUnlock()

	if handler != nil {
		handler(typ, block)
	}
}
