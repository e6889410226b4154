package broker

// Identity is the opaque principal attached to a command. It is a plain
// key-value record so it survives the trip through a queue payload.
type Identity map[string]any

// IdentityUsername is the key under which an identity carries its username.
const IdentityUsername = "username"

// Username returns the identity's username, or "".
func (i Identity) Username() string {
	if i == nil {
		return ""
	}

	s, _ := i[IdentityUsername].(string)

	return s
}

// Clone returns a shallow copy.
func (i Identity) Clone() Identity {
	if i == nil {
		return nil
	}

	out := make(Identity, len(i))
	for k, v := range i {
		out[k] = v
	}

	return out
}
