package ble

import "time"

const (
	// SMPServiceUUID is the mcumgr SMP GATT service
	SMPServiceUUID = "8D53DC1D-1DB7-4CD3-868B-8A527460AA84"

	// SMPCharUUID is the SMP characteristic, used for both requests (write
	// without response) and responses (notify)
	SMPCharUUID = "DA2E7828-FBCE-4E01-AE9E-261174997C48"
)

const (
	// defaultMTU is assumed when the stack cannot report the negotiated MTU.
	defaultMTU = 23

	// attOverhead is the ATT header cost of each write.
	attOverhead = 3

	// fragmentDelay spaces out writes of a multi-packet frame.
	fragmentDelay = 10 * time.Millisecond

	// notifySettle gives the peripheral time to register the CCCD write.
	notifySettle = 100 * time.Millisecond
)
