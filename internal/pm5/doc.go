// Package pm5 talks to a Concept2 PM5 rowing monitor over Bluetooth Low Energy.
//
// A Session owns one connection at a time. It resolves GATT handles lazily
// through a Registry, decodes the two rowing telemetry notifications, and
// republishes them as typed events through a Hub:
//
//	s := pm5.NewSession(transport, pm5.Options{Logger: logger})
//	if err := s.Connect(ctx); err != nil {
//	    return err
//	}
//	s.Subscribe(ctx, pm5.EventGeneralStatus, func(e pm5.Event) error {
//	    st := e.(pm5.LiveStatusEvent).Status
//	    fmt.Printf("%.2fs %.1fm\n", st.ElapsedTime, st.Distance)
//	    return nil
//	})
//
// Failures carry an ErrorKind and match the Err* sentinels with errors.Is.
package pm5
