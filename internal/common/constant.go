package common

// DeviceFingerprintHeader is the HTTP header that may carry the client
// device fingerprint when it is not supplied in the request body.
const DeviceFingerprintHeader = "X-Device-Fingerprint"

// PublicKeySource tags credentials issued through the public get-key flow.
const PublicKeySource = "getkey"
